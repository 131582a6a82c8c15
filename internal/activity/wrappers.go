package activity

// withExtra copies extra into details without overriding the keys set by a
// wrapper.
func withExtra(details, extra map[string]any) map[string]any {
	for k, v := range extra {
		if _, taken := details[k]; !taken {
			details[k] = v
		}
	}
	return details
}

// LogAuth records an authentication attempt. verb is "login", "logout",
// "signup" or "password_reset" (or the full AUTH_ action).
func (l *Logger) LogAuth(verb, email string, success bool, err error) {
	details := map[string]any{
		"email":   email,
		"success": success,
	}
	if err != nil {
		details["error"] = err.Error()
	}

	var id *Identity
	if email != "" {
		id = &Identity{Email: email}
	}
	l.Log(domainAction(DomainAuth, verb), details, id, "")
}

// LogNavigation records a route change.
func (l *Logger) LogNavigation(from, to string, id *Identity) {
	l.Log(ActionNavigation, map[string]any{
		"from": from,
		"to":   to,
	}, id, to)
}

// LogClassAction records a class operation such as "create_success".
func (l *Logger) LogClassAction(verb, classID, className string, extra map[string]any, id *Identity) {
	details := map[string]any{"classId": classID}
	if className != "" {
		details["className"] = className
	}
	l.Log(domainAction(DomainClass, verb), withExtra(details, extra), id, "")
}

// LogSessionAction records a session operation such as "create" or "reorder".
func (l *Logger) LogSessionAction(verb, sessionID, sessionName string, extra map[string]any, id *Identity) {
	details := map[string]any{"sessionId": sessionID}
	if sessionName != "" {
		details["sessionName"] = sessionName
	}
	l.Log(domainAction(DomainSession, verb), withExtra(details, extra), id, "")
}

// LogSubmissionAction records a submission operation such as "create" or "grade".
func (l *Logger) LogSubmissionAction(verb, submissionID, sessionID string, extra map[string]any, id *Identity) {
	details := map[string]any{"submissionId": submissionID}
	if sessionID != "" {
		details["sessionId"] = sessionID
	}
	l.Log(domainAction(DomainSubmission, verb), withExtra(details, extra), id, "")
}

// LogFileAction records a file operation such as "upload" or "download".
func (l *Logger) LogFileAction(verb, fileName string, size int64, contentType string, extra map[string]any, id *Identity) {
	details := map[string]any{
		"fileName": fileName,
		"fileSize": size,
	}
	if contentType != "" {
		details["contentType"] = contentType
	}
	l.Log(domainAction(DomainFile, verb), withExtra(details, extra), id, "")
}

package activity

import "strings"

// Action domain prefixes. Actions follow the <DOMAIN>_<VERB> convention.
const (
	DomainAuth       = "AUTH_"
	DomainClass      = "CLASS_"
	DomainSession    = "SESSION_"
	DomainSubmission = "SUBMISSION_"
	DomainFile       = "FILE_"
)

// ActionNavigation is the only action without a domain prefix.
const ActionNavigation = "NAVIGATION"

// Actions emitted by the EduCode front-end and services.
const (
	ActionAuthLogin         = "AUTH_LOGIN"
	ActionAuthLogout        = "AUTH_LOGOUT"
	ActionAuthSignup        = "AUTH_SIGNUP"
	ActionAuthPasswordReset = "AUTH_PASSWORD_RESET"

	ActionClassCreateSuccess = "CLASS_CREATE_SUCCESS"
	ActionClassCreateError   = "CLASS_CREATE_ERROR"
	ActionClassUpdate        = "CLASS_UPDATE"
	ActionClassDelete        = "CLASS_DELETE"

	ActionSessionCreate  = "SESSION_CREATE"
	ActionSessionReorder = "SESSION_REORDER"
	ActionSessionView    = "SESSION_VIEW"

	ActionSubmissionCreate = "SUBMISSION_CREATE"
	ActionSubmissionGrade  = "SUBMISSION_GRADE"

	ActionFileUpload   = "FILE_UPLOAD"
	ActionFileDownload = "FILE_DOWNLOAD"
)

// Domain labels used for metrics and console styling.
const (
	LabelAuth       = "auth"
	LabelClass      = "class"
	LabelSession    = "session"
	LabelSubmission = "submission"
	LabelFile       = "file"
	LabelNavigation = "navigation"
	LabelOther      = "other"
)

// Domain returns the domain label of an action.
func Domain(action string) string {
	switch {
	case action == ActionNavigation:
		return LabelNavigation
	case strings.HasPrefix(action, DomainAuth):
		return LabelAuth
	case strings.HasPrefix(action, DomainClass):
		return LabelClass
	case strings.HasPrefix(action, DomainSession):
		return LabelSession
	case strings.HasPrefix(action, DomainSubmission):
		return LabelSubmission
	case strings.HasPrefix(action, DomainFile):
		return LabelFile
	default:
		return LabelOther
	}
}

// domainAction builds "<PREFIX><VERB>" from a verb such as "create_success"
// or an already prefixed action.
func domainAction(prefix, verb string) string {
	verb = strings.ToUpper(strings.TrimSpace(verb))
	if strings.HasPrefix(verb, prefix) {
		return verb
	}
	return prefix + verb
}

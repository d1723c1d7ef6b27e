// Package apiclient is the HTTP/JSON client for the school-manager
// authentication and profile endpoints. [Client] implements
// authkeeper.Backend.
//
// Errors are [*StatusError] values for non-2xx responses and wrap
// authkeeper.ErrBackendUnavailable for transport failures, so callers
// match them with errors.Is against the authkeeper sentinels.
package apiclient

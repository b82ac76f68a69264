package models

// HTTP headers shared by the backing service and its clients.
const (
	// HeaderGroupVersion carries the group version after a mutation.
	HeaderGroupVersion = "X-Group-Version"

	// HeaderClientID identifies the caller so real-time broadcasts can skip it.
	HeaderClientID = "X-Client-ID"
)

// VersionInfo is the body of GET /groups/{id}/version.
type VersionInfo struct {
	Version Version `json:"version"`
}

// ErrorBody is the body of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

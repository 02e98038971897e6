package recordfiles

// Request DTOs

// InitFileRequest describes a file entry to create in the pending state.
type InitFileRequest struct {
	Key      string
	Metadata map[string]interface{}
}

// CreateRecordRequest contains parameters for creating a record
type CreateRecordRequest struct {
	Metadata map[string]interface{}
}

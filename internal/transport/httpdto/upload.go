package httpdto

// CreateImageUploadRequest is used for POST /v1/uploads/images
type CreateImageUploadRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// CreateImageUploadResponse carries a presigned PUT URL and the public URL
// to send as an image message once the upload completes.
type CreateImageUploadResponse struct {
	ObjectKey string            `json:"object_key"`
	UploadURL string            `json:"upload_url"`
	FileURL   string            `json:"file_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt string            `json:"expires_at"`
}

package hubspot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"crmsync/backend"
	"crmsync/internal/utils"
)

const (
	filesPath        = "/files/v3/files"
	attachmentFolder = "/uploaded_from_pwa"
)

type fileOptions struct {
	Access                      string `json:"access"`
	Overwrite                   bool   `json:"overwrite"`
	DuplicateValidationStrategy string `json:"duplicateValidationStrategy"`
	DuplicateValidationScope    string `json:"duplicateValidationScope"`
}

type fileResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// uploadAttachments uploads every attachment and returns the file ids that
// made it. A failed upload is logged and skipped.
func (c *Client) uploadAttachments(ctx context.Context, attachments []backend.Attachment) []string {
	var ids []string
	for _, a := range attachments {
		id, err := c.UploadFile(ctx, a)
		if err != nil {
			utils.Warnf("Skipping attachment %q: %v", a.Name, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// UploadFile sends one attachment to the file manager and returns its file id.
func (c *Client) UploadFile(ctx context.Context, a backend.Attachment) (string, error) {
	content, err := decodeAttachment(a.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode attachment: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	contentType := a.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}

	opts, _ := json.Marshal(fileOptions{
		Access:                      "PRIVATE",
		DuplicateValidationStrategy: "NONE",
		DuplicateValidationScope:    "EXACT_FOLDER",
	})
	if err := w.WriteField("options", string(opts)); err != nil {
		return "", err
	}
	if err := w.WriteField("folderPath", attachmentFolder); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+filesPath, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", backend.NewBackendError("upload file", 0, err.Error()).WithError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse("upload file", resp); err != nil {
		return "", err
	}
	var file fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if file.ID == "" {
		return "", fmt.Errorf("upload of %q returned no file id", a.Name)
	}
	return file.ID, nil
}

// decodeAttachment accepts raw base64 or a data URL.
func decodeAttachment(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		idx := strings.Index(data, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}

// associateActivity links a created engagement to every record it names.
// Failures are logged; the engagement already exists remotely.
func (c *Client) associateActivity(ctx context.Context, a *backend.Activity, ot objectType, objectID string) {
	targets := map[string]string{
		"contacts":  a.ContactID,
		"companies": a.CompanyID,
		"deals":     a.DealID,
		"tickets":   a.TicketID,
	}
	for target, toID := range targets {
		if toID == "" {
			continue
		}
		code, ok := AssociationCode(a.Type, target)
		if !ok {
			continue
		}
		endpoint := fmt.Sprintf("%s/%s/%s/associations/%s/%s/%s",
			objectsPath, ot.path, url.PathEscape(objectID), target, url.PathEscape(toID), strconv.Itoa(code))
		if err := c.do(ctx, "associate "+ot.path, http.MethodPut, endpoint, nil, nil); err != nil {
			utils.Warnf("Failed to link %s %s to %s %s: %v", ot.path, objectID, target, toID, err)
		}
	}
}

// associateDefault links a record with HubSpot's default association type
// via the v4 API, which needs no type code.
func (c *Client) associateDefault(ctx context.Context, ot objectType, objectID string, fields map[string]any) {
	for target, field := range ot.associations {
		toID, _ := fields[field].(string)
		if toID == "" {
			continue
		}
		endpoint := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/default/%s/%s",
			ot.path, url.PathEscape(objectID), target, url.PathEscape(toID))
		if err := c.do(ctx, "associate "+ot.path, http.MethodPut, endpoint, nil, nil); err != nil {
			utils.Warnf("Failed to link %s %s to %s %s: %v", ot.path, objectID, target, toID, err)
		}
	}
}

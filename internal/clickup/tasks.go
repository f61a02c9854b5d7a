package clickup

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/basket/clickgram/internal/otel"
)

func (c *Client) CreateTask(ctx context.Context, listID string, task TaskRequest) (Task, error) {
	var out Task
	err := c.do(ctx, "createTask", http.MethodPost, "/list/"+url.PathEscape(listID)+"/task", task, "", &out)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, task TaskRequest) (Task, error) {
	var out Task
	err := c.do(ctx, "updateTask", http.MethodPut, "/task/"+url.PathEscape(taskID), task, "", &out, otel.AttrTaskID.String(taskID))
	return out, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out Task
	err := c.do(ctx, "getTask", http.MethodGet, "/task/"+url.PathEscape(taskID), nil, "", &out, otel.AttrTaskID.String(taskID))
	return out, err
}

func (c *Client) GetList(ctx context.Context, listID string) (List, error) {
	var out List
	err := c.do(ctx, "getList", http.MethodGet, "/list/"+url.PathEscape(listID), nil, "", &out)
	return out, err
}

// GetFields returns the custom fields accessible on a list.
func (c *Client) GetFields(ctx context.Context, listID string) ([]CustomField, error) {
	var out struct {
		Fields []CustomField `json:"fields"`
	}
	err := c.do(ctx, "getFields", http.MethodGet, "/list/"+url.PathEscape(listID)+"/field", nil, "", &out)
	return out.Fields, err
}

// FindField returns the list's custom field called name.
func (c *Client) FindField(ctx context.Context, listID, name string) (CustomField, bool, error) {
	fields, err := c.GetFields(ctx, listID)
	if err != nil {
		return CustomField{}, false, err
	}
	for _, f := range fields {
		if f.Name == name {
			return f, true, nil
		}
	}
	return CustomField{}, false, nil
}

func (c *Client) CreateTaskComment(ctx context.Context, taskID string, comment CommentRequest) (CommentResult, error) {
	var out CommentResult
	err := c.do(ctx, "createTaskComment", http.MethodPost, "/task/"+url.PathEscape(taskID)+"/comment", comment, "", &out, otel.AttrTaskID.String(taskID))
	return out, err
}

// CreateTaskAttachment uploads data as a file named filename.
func (c *Client) CreateTaskAttachment(ctx context.Context, taskID, filename string, data []byte) (Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("attachment", filename)
	if err != nil {
		return Attachment{}, fmt.Errorf("clickup createTaskAttachment: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Attachment{}, fmt.Errorf("clickup createTaskAttachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Attachment{}, fmt.Errorf("clickup createTaskAttachment: %w", err)
	}
	var out Attachment
	err = c.do(ctx, "createTaskAttachment", http.MethodPost, "/task/"+url.PathEscape(taskID)+"/attachment",
		&buf, mw.FormDataContentType(), &out, otel.AttrTaskID.String(taskID))
	return out, err
}

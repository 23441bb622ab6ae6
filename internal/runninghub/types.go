// Package runninghub provides an HTTP client for the RunningHub workflow
// queue API: file upload, job creation with node overrides, output polling
// and artifact download.
package runninghub

import "encoding/json"

// Application error codes raised by this package.
const (
	CodeConfigError      = "RUNNINGHUB_CONFIG_ERROR"
	CodeHTTPError        = "RUNNINGHUB_HTTP_ERROR"
	CodeUploadFailed     = "RUNNINGHUB_UPLOAD_FAILED"
	CodeTaskCreateFailed = "RUNNINGHUB_TASK_CREATE_FAILED"
	CodePromptInvalid    = "RUNNINGHUB_PROMPT_INVALID"
	CodeTaskTimeout      = "RUNNINGHUB_TASK_TIMEOUT"
	CodeTaskFailed       = "RUNNINGHUB_TASK_FAILED"
	CodeTaskStatusError  = "RUNNINGHUB_TASK_STATUS_ERROR"
	CodeDownloadFailed   = "RUNNINGHUB_DOWNLOAD_FAILED"
)

// Backend status codes on the outputs endpoint. Zero means success with
// outputs in data; runningCodes mean poll again; failedCode carries a
// failedReason object. Anything else is a protocol error.
const failedCode = 805

var runningCodes = map[int]bool{
	804: true,
	813: true,
}

// NodeInfo overrides one input field of one workflow node at job creation.
type NodeInfo struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue any    `json:"fieldValue"`
}

// OutputFile describes one artifact produced by a completed job.
type OutputFile struct {
	FileType string `json:"fileType"`
	FileURL  string `json:"fileUrl"`
}

// CreatedJob is the result of a successful job creation.
type CreatedJob struct {
	JobID      string
	TaskStatus string
}

// envelope is the generic RunningHub response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// createData is the data payload of a job-creation response.
type createData struct {
	TaskID     json.Number `json:"taskId"`
	TaskStatus string      `json:"taskStatus"`
	PromptTips string      `json:"promptTips"`
}

// promptTips is the embedded validation report inside createData.PromptTips.
type promptTips struct {
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

// failedData is the data payload of a failed outputs response.
type failedData struct {
	FailedReason *failedReason `json:"failedReason"`
}

type failedReason struct {
	NodeName         string `json:"node_name"`
	ExceptionMessage string `json:"exception_message"`
}

// uploadData is the data payload of an upload response.
type uploadData struct {
	FileName string `json:"fileName"`
}

package providers

// LlamaCloud API request/response types.

type llamaFileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type llamaDocumentInput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type llamaSplitStrategy struct {
	AllowUncategorized bool `json:"allow_uncategorized"`
}

type llamaSplitRequest struct {
	DocumentInput llamaDocumentInput `json:"document_input"`
	Categories    []SplitCategory    `json:"categories"`
	Strategy      llamaSplitStrategy `json:"splitting_strategy"`
}

type llamaSplitResult struct {
	Segments []SplitSegment `json:"segments"`
}

type llamaSplitResponse struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Result       *llamaSplitResult `json:"result,omitempty"`
}

type llamaParsingConfiguration struct {
	TargetPages []int `json:"target_pages"`
}

type llamaClassifyRequest struct {
	FileIDs              []string                  `json:"file_ids"`
	Rules                []ClassifyRule            `json:"rules"`
	Mode                 string                    `json:"mode"`
	ParsingConfiguration llamaParsingConfiguration `json:"parsing_configuration"`
}

type llamaClassifyPrediction struct {
	Type       *string `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type llamaClassifyItem struct {
	FileID string                   `json:"file_id"`
	Result *llamaClassifyPrediction `json:"result"`
}

type llamaClassifyResponse struct {
	Items []llamaClassifyItem `json:"items"`
}

type llamaErrorResponse struct {
	Detail  any    `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
}

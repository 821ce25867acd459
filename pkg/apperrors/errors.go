package apperrors

import "errors"

var (
	ErrKnowledgeBaseEmpty = errors.New("knowledge base is empty; run a build first")
)

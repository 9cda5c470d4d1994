package models

// KnowledgeStatus is derived from the SRS fields of an item and never stored.
type KnowledgeStatus string

const (
	StatusUnknown  KnowledgeStatus = "unknown"
	StatusSeen     KnowledgeStatus = "seen"
	StatusLearning KnowledgeStatus = "learning"
	StatusLearned  KnowledgeStatus = "learned"
)

package handler

import "accord/internal/federation/models"

// ReadyResponse reports each readiness probe by name.
type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

type HistoryResponse struct {
	Entries []models.HistoryEntry `json:"entries"`
	Count   int                   `json:"count"`
}

type ConflictsResponse struct {
	Conflicts []models.PrecedentConflict `json:"conflicts"`
	Count     int                        `json:"count"`
}

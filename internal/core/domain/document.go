package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocTypeUnknown is assigned on first discovery; operators reclassify later.
const DocTypeUnknown = "unknown"

// Document is one tracked source file, unique by absolute source path.
type Document struct {
	ID           uuid.UUID
	SourcePath   string
	Fingerprint  string
	FileSize     int64
	DocType      string
	Pipeline     string
	RunTag       string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

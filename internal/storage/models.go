package storage

import (
	"github.com/kalambet/vidrag/internal/catalog"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = catalog.ErrNotFound

// Vector table names created by the migrations.
const (
	TextVectorsTable  = "text_vectors"
	ImageVectorsTable = "image_vectors"
)

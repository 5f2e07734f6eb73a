package mqttstore

import (
	"database/sql"
	"errors"
)

// ErrNotOpen is logged when paho uses the store outside Open/Close.
var ErrNotOpen = errors.New("mqttstore: store not open")

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

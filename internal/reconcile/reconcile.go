// Package reconcile holds the pure status-resolution policy that merges
// remote reaction markers with local thread state. It performs no I/O.
package reconcile

import (
	"github.com/figsync/pkg/models"
)

// Marker shortcodes used by the remote reactions API.
const (
	MarkerPending = ":eyes:"
	MarkerDone    = ":white_check_mark:"
	MarkerWontfix = ":no_entry_sign:"
)

// markerStatus maps recognized reaction emoji (shortcode and unicode
// forms) to a status. Reactions outside this table carry no signal.
var markerStatus = map[string]models.Status{
	MarkerPending: models.StatusPending,
	MarkerDone:    models.StatusDone,
	MarkerWontfix: models.StatusWontfix,
	"👀":           models.StatusPending,
	"✅":           models.StatusDone,
	"🚫":           models.StatusWontfix,
}

// ResolveRemoteSignal scans the reactions on a thread root for status
// markers and returns the effective remote signal, if any.
//
// When both the done and wontfix markers are present, DONE wins: an
// operator's intent to close beats intent to reject.
func ResolveRemoteSignal(reactions []models.Reaction) (models.Status, bool) {
	var hasDone, hasWontfix, hasPending bool

	for _, r := range reactions {
		switch markerStatus[r.Emoji] {
		case models.StatusDone:
			hasDone = true
		case models.StatusWontfix:
			hasWontfix = true
		case models.StatusPending:
			hasPending = true
		}
	}

	switch {
	case hasDone:
		return models.StatusDone, true
	case hasWontfix:
		return models.StatusWontfix, true
	case hasPending:
		return models.StatusPending, true
	}

	return "", false
}

// Reconcile merges the observed remote signal with the current local
// status.
//
// A present remote marker always wins: a human acting on the remote
// side overrides whatever we decided locally. An absent marker only
// reopens a previously closed thread (the marker was removed); it never
// promotes an open one.
func Reconcile(remoteSignal models.Status, hasSignal bool, currentLocal models.Status) models.Status {
	if hasSignal {
		return remoteSignal
	}

	if currentLocal == models.StatusDone || currentLocal == models.StatusWontfix {
		return models.StatusOpen
	}

	return currentLocal
}

// StatusMarker returns the reaction shortcode representing a status.
// OPEN carries no marker.
func StatusMarker(status models.Status) (string, bool) {
	switch status {
	case models.StatusPending:
		return MarkerPending, true
	case models.StatusDone:
		return MarkerDone, true
	case models.StatusWontfix:
		return MarkerWontfix, true
	}
	return "", false
}

// MarkerToStatus returns the status a marker emoji stands for. Both
// shortcode and unicode forms are recognized.
func MarkerToStatus(emoji string) (models.Status, bool) {
	s, ok := markerStatus[emoji]
	return s, ok
}

// FirstMarker returns the first reaction emoji in the list that is a
// recognized status marker, preserving the form it was observed in.
func FirstMarker(reactions []models.Reaction) (string, bool) {
	for _, r := range reactions {
		if _, ok := markerStatus[r.Emoji]; ok {
			return r.Emoji, true
		}
	}
	return "", false
}

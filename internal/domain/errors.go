package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the requested row does not exist or is not visible to the actor.
	ErrNotFound = errors.New("risorsa non trovata")
	// ErrForbidden is returned when the actor's role does not allow the operation.
	ErrForbidden = errors.New("non sei autorizzato a eseguire questa operazione")
	// ErrEditWindow is the fixed, user-facing rejection of the activity edit window guard.
	ErrEditWindow = errors.New("Non puoi modificare attività più vecchie di 7 giorni o con data futura")
	// ErrLastInteraction prevents leaving an activity without interactions.
	ErrLastInteraction = errors.New("un'attività deve avere almeno un'interazione")
	// ErrCreateFailed is the generic message shown when persisting a new activity fails.
	ErrCreateFailed = errors.New("Errore durante la creazione dell'attività")
	// ErrUpdateFailed is the generic message shown when any other write fails.
	ErrUpdateFailed = errors.New("Errore durante il salvataggio delle modifiche")
	// ErrLoadFailed is the generic message shown when a read fails.
	ErrLoadFailed = errors.New("Errore durante il caricamento dei dati")
)

// ValidationError carries field-level messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "dati non validi"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "dati non validi: " + strings.Join(parts, "; ")
}

func fieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// RefusalError is a request the session provider refused, with a message ready for the user.
type RefusalError struct {
	Code    string
	Message string
}

func (e *RefusalError) Error() string {
	return e.Message
}

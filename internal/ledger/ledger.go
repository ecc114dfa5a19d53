// Package ledger holds the narrow contract against the remote ledger:
// raw object shapes, the query client, and the signing collaborator.
package ledger

import (
	"context"
	"errors"
)

// Errors the rest of the engine classifies as terminal: retrying cannot
// help, the user or wallet has to act first.
var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrUserRejected       = errors.New("user rejected request")
)

// MoveObjectDataType is the only content encoding the transformer accepts.
const MoveObjectDataType = "moveObject"

// RawObject is one loosely-typed object as returned by the ledger. Either
// Data or Error is set.
type RawObject struct {
	Data  *RawObjectData  `json:"data,omitempty"`
	Error *RawObjectError `json:"error,omitempty"`
}

// RawObjectData is the payload half of a raw object.
type RawObjectData struct {
	ObjectID string      `json:"objectId"`
	Version  string      `json:"version,omitempty"`
	Digest   string      `json:"digest,omitempty"`
	Type     string      `json:"type,omitempty"`
	Content  *RawContent `json:"content,omitempty"`
}

// RawContent carries the typed field bag of an on-chain object.
type RawContent struct {
	DataType string         `json:"dataType"`
	Type     string         `json:"type,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// RawObjectError is the error half of a raw object lookup.
type RawObjectError struct {
	Code     string `json:"code"`
	ObjectID string `json:"object_id,omitempty"`
}

// ObjectsPage is one page of an owned-objects query.
type ObjectsPage struct {
	Data        []RawObject `json:"data"`
	HasNextPage bool        `json:"hasNextPage"`
	NextCursor  string      `json:"nextCursor,omitempty"`
}

// OwnedObjectsQuery selects a page of objects owned by an address.
// StructType, when set, asks the backend to filter by type signature; not
// every backend supports that, so callers fall back to an unfiltered query
// plus client-side matching.
type OwnedObjectsQuery struct {
	Owner      string
	StructType string
	Cursor     string
	Limit      int
}

// QueryClient is the read side of the ledger transport.
type QueryClient interface {
	GetOwnedObjects(ctx context.Context, query OwnedObjectsQuery) (*ObjectsPage, error)
	GetObject(ctx context.Context, objectID string) (*RawObject, error)
	MultiGetObjects(ctx context.Context, objectIDs []string) ([]RawObject, error)
}

// MoveCall describes one write transaction against the todo package.
type MoveCall struct {
	Package   string
	Module    string
	Function  string
	Arguments []any
}

// ExecuteResult is what a signer returns for an executed transaction.
type ExecuteResult struct {
	Digest  string `json:"digest"`
	Status  string `json:"status,omitempty"`
	Effects any    `json:"effects,omitempty"`
}

// Signer is supplied by the wallet layer. It owns the key material; this
// module only hands it transactions to sign and execute.
type Signer interface {
	Address() string
	SignAndExecute(ctx context.Context, call MoveCall) (*ExecuteResult, error)
}

// IsTerminal reports whether an error should never be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrWalletNotConnected) || errors.Is(err, ErrUserRejected)
}

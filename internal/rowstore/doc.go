// Package rowstore declares the gRPC contract between the sync engine and the
// remote entity store. Messages are google.protobuf.Struct values; the
// request and response shapes are fixed by the typed helpers in this package,
// which both sides use to build and read them.
package rowstore

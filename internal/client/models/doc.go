// Package models defines the syncable business records kept in the local
// snapshot, the mutations queued for the remote store and the helpers the
// sync engine uses to address them by table and id.
package models

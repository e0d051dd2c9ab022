// Package model contains the core identifier and assignment types shared across
// the index, store, and search packages.
//
// Types here are deliberately dependency-free so that every layer can exchange
// keys, slots, and versions without import cycles.
package model

// Package ir provides the canonical data model for the timelock registry.
//
// This package contains type definitions, canonical serialization and
// content hashing only. All other internal packages import ir; ir imports
// nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - amounts and times are integers
//   - Request ids are allocated by the store counter, never derived
//   - Actions and CreatedAt are immutable once a request is stored
//   - All JSON tags use snake_case
package ir

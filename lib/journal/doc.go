// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records what each engine run did, one append-only
// file per run.
//
// A journal is a sequence of length-prefixed CBOR records using Core
// Deterministic Encoding (RFC 8949 §4.2): the same iteration always
// produces identical bytes. Appends are single write calls to an
// O_APPEND file, so a crash can tear at most the final record; readers
// detect the torn tail and surface every record before it.
//
// Finished journals can be archived into a tagged container (a 1-byte
// codec tag, the uncompressed size, and the payload). zstd is the
// default codec, lz4 the fast alternative, and a probe falls back to
// raw storage when compression does not pay. Open handles raw and
// archived journals transparently.
package journal

// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox decides whether paths and shell commands stay inside
// a project root. It is advisory text and path analysis — there is no
// namespace, chroot, or seccomp enforcement behind it; the tool
// executor simply refuses to act on anything the policy rejects.
//
// Containment is component-wise: /a1/x is inside root /a1, /a1foo/x is
// not. Raw string prefix comparison is exactly the bug this package
// exists to avoid.
package sandbox

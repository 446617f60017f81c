// Package model provides the foundational types for the cordage component
// network: component models, ports, instances, connection policies, catalogs
// and requirements.
//
// This package contains type definitions and pure arithmetic only. All other
// internal packages import model; model imports nothing internal. This keeps
// it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Instances are referenced by stable opaque InstanceID values, never by
//     pointer, so that graph structures can use dense adjacency indexes and
//     edge removal stays O(1).
//   - Policies are a tagged variant (data vs. sized buffer), never an
//     open-ended interface.
//   - Canonical JSON (RFC 8785 subset: sorted keys, NFC normalization, no
//     floats) is the only serialization used for journal details and golden
//     traces.
package model

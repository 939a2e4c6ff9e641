// Package preflight provides readiness checks for the filesystem paths and
// converter binaries tilepipe depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and refuses to start workers when a
//     required converter is missing.
//   - The CLI "tilepipe deps" command and the /api/health endpoint report the
//     same results for operators.
package preflight

// Package main runs the in-memory HTTP relay used to exercise otr4's
// reference host during development and tests. It stores the latest
// published PrekeyEnsemble per account and queues wire envelopes for
// recipients until they fetch them.
//
// HTTP API
//
//	POST /ensemble/{username}
//	    Store {username}'s latest published PrekeyEnsemble (base64-encoded
//	    wire bytes).
//
//	GET /ensemble/{username}
//	    Return {username}'s last published PrekeyEnsemble, 404 if none.
//
//	POST /envelope/{user}
//	    Enqueue a wire-format OTR4 message destined to {user}.
//
//	GET /envelope/{user}
//	    Return and drop every envelope currently queued for {user}.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - There is no retry: a fetched envelope is gone whether or not the
//     caller actually delivered it to the user.
//   - The default listen address is :8080.
//
// This relay never sees plaintext or long-term private keys; it only
// stores ciphertext frames and public profile/prekey material.
package main

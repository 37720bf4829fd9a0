// Package profile builds and verifies the signed, self-describing records
// a Client publishes about itself: ClientProfile (long-term identity,
// supported versions, instance tag, expiry) and PrekeyProfile (a
// medium-term shared prekey), plus the pool that tracks a Client's own
// outstanding one-time PrekeyMessages.
//
// Field shapes follow the teacher's PreKeyBundle/PreKeyMessage in
// internal/domain/types/prekeys.go, generalized from X3DH-specific
// signed-prekey-plus-signature fields to this protocol's single
// whole-record signature over a canonical encoding.
package profile

// Package signers builds offramp.Signer values for the two identities a withdrawal
// uses: the SEP-10 authentication key and the funds account that pays the anchor.
//
// FromSecret wraps a plain S... seed. FromSealedSecret takes a custodial account's
// PIN-sealed seed and opens it again for every signature. FromCallback adapts any
// external signing function. Missing or malformed secrets are CONFIG_INVALID.
package signers

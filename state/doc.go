/*
Package state contains the Switch record and the pure derivations over it.

A Switch is the per-owner custody record: who the beneficiary is, how much
value is escrowed, when the owner last proved liveness, and how long the owner
may stay silent before the beneficiary can claim. The record only stores facts;
whether a switch is claimable is always derived from the record and a caller
supplied current time, never stored.

Lifecycle status is derived the same way:

	Uninitialized -> Active -> Claimed
	                        -> Cancelled

Claimed and Cancelled are terminal. Claimability is a time window inside
Active, not a status of its own.

None of the primitives in this package are threadsafe and synchronization
must be provided by the caller if the package is used in a concurrent
context. The registry package provides that synchronization.
*/
package state

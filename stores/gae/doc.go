//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// recipeauth store interfaces, for deployments on Google Cloud Platform.
//
// # Datastore Kinds
//
//   - User: accounts, keyed by a numeric ID allocated by Datastore
//   - UsernameReservation, EmailReservation, PhoneReservation: one entity per
//     taken value, written in the same transaction as the account so that two
//     concurrent sign ups cannot claim the same value
//   - EphemeralEntry: OTP challenges and OAuth state, keyed by the entry key
//
// # Namespacing
//
// Every store takes a namespace, so several deployments can share a project:
//
//	users := gae.NewIdentityStore(client, "recipes-staging")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewIdentityStore(client, "")
//	ephemeral := gae.NewEphemeralStore(client, "")
package gae

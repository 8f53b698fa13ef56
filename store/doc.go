// Package store is the DynamoDB document store behind the repository.
//
// It issues single-page reads so the caller controls pagination through
// the store-native resume position (LastEvaluatedKey), and it classifies
// store faults for the retry executor with [Classify].
//
// # Writes
//
// [Store.Put] writes an item unconditionally. When guards are supplied the
// put runs in one transaction with a conditional claim per guard on the
// unique constraint table:
//
//	attribute_not_exists(pk) OR entity_ref = :ref
//
// so a retried put that already applied succeeds again, while a claim held
// by another entity fails with [ErrDuplicateValue].
//
// [Store.Update] SETs and REMOVEs document paths on an existing item. A
// missing item fails with [ErrNotFound]; the call never creates one.
//
// # Errors
//
//   - [ErrNotFound] - no item for the key
//   - [ErrDuplicateValue] - a unique guard is held by another entity
package store

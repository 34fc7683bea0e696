// Package models defines domain entities and persistence interfaces for the plsync synchronization engine.
//
// Persistent entities:
//   - [Source] : a configured playlist kept in sync with a remote catalog, with its sync policy, schedules and aggregate counters
//   - [Item] : one remote entry owned by a source, tracked through materialization
//   - [Job] : the execution record of one sync run, with counts and an ordered log trail
//
// Every status type is a tagged string enumeration backed by an explicit transition table
// ([CanTransitionSource], [CanTransitionItem], [CanTransitionJob]). Terminal job states have no outgoing edges.
//
// All persistent entities implement the Model interface; the Repository[T] interface defines standard CRUD operations for database access.
package models

// Package nightfall runs the Tonight flow: an utterance is routed to a skill,
// the skill runs inside its sandbox, and the result comes back as an ordered
// list of protocol messages plus host effects.
//
// States move order -> clarify -> candidate -> result, where clarify and
// candidate are optional, and Reset returns to order. Every operation is
// serialized per session and tagged with a fresh trace id that the audit log
// stamps on each event it records.
package nightfall

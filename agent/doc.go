// Package agent implements the conversational turn loop.
//
// A turn appends the user message to the session, then repeats:
//
//  1. build the context (system message plus the last N session messages)
//  2. ask the model which tools to call, with tool use forced
//  3. either execute the requested tools concurrently and fold their linked
//     call/result pairs back into the session and the in-flight context, or,
//     when a sentinel tool (ready_to_reply / need_more_information) was
//     chosen, ask the model for the actual reply and stop
//
// The selection step is bounded by an iteration budget. Every failure inside
// a turn degrades to a "Sorry, ..." reply; Run never panics or returns an
// error to the caller.
//
// An Agent can itself be exposed as a tool (AsTool) for another agent, in
// which case each call runs in an isolated ephemeral session.
package agent

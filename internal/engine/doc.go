// Package engine implements the wire client for the CAD engine process.
//
// The engine listens on localhost TCP and speaks newline-delimited JSON:
// each request carries an id, method, and params; each reply echoes the id
// with either a result or an error string. The engine is stateful and
// replies strictly in request order, so Conn serializes commands.
//
// Errors the engine reports come back as *CommandError; everything else
// (dial failures, resets, deadline expiry) is a transport error and a sign
// the session is gone.
package engine

// Package stage implements the reasoning-service calls behind each pipeline
// stage: Discover, Propose, Critique and Assemble.
//
// Every stage function is pure given its inputs. It builds a request for the
// Reasoner, decodes the structured payload, and normalizes it into the closed
// types of package parts, or fails with services.ErrService. A missing
// response, a payload that does not parse, and a payload that does not fit the
// expected shape are the same failure.
//
// Retries with feedback use the same functions. Revision selects between a
// fresh run with identical inputs and a conversational run that replays the
// prior output together with the caller's correction text.
package stage

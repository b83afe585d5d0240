// Package pipeline coordinates the processing of a single image.
//
// For each image the Orchestrator runs the enabled models one after another,
// normalizes and merges their detections, turns them into comments, renders an
// annotated copy and appends a ledger row. Every step except the final return
// contains its own failures:
//
//   - a model that errors or panics contributes no detections (ModelInvocationError)
//   - a malformed raw detection is dropped on its own
//   - a rule evaluation failure becomes the single comment "Error generating comments"
//   - an annotation failure leaves Result.AnnotatedPath empty
//   - a ledger failure is logged and otherwise ignored
//
// Only a missing session or a fault inside the orchestrator itself is returned
// as an error, wrapped with the image path.
//
// # Ordering
//
// Merged detections are ordered by model processing order, then by each
// model's native order. That order flows unchanged into comment generation,
// annotation and the ledger Findings column.
package pipeline

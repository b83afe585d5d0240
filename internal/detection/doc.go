// Package detection defines the data model shared by every stage of the
// detection pipeline and the capability contract of a detection model.
//
// # Detections
//
// A Detection is one labeled, confidence-scored bounding box produced by one model
// on one image. Detections are created transiently per inference call and are never
// mutated after creation, except that the orchestrator stamps the producing model's
// identifier into Detection.Model.
//
// # Coordinate System
//
// Bounding boxes use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//   - BBox is [x1, y1, x2, y2]; (x1,y1) top-left, (x2,y2) bottom-right
//
// Producers are expected to keep x1 < x2 and y1 < y2. Consumers must tolerate
// violations; Detection.Rect canonicalizes swapped corners.
//
// # Models
//
// A Model is an opaque capability: given an image path, return raw records.
// Concrete backends (ONNX networks, remote inference servers, OCR engines) live in
// other packages and are adapters implementing Model. A ModelSet keeps models in an
// explicit order because merged detections are ordered by model first, then by the
// model's native output order.
//
// # Normalization
//
// Normalize turns a Raw record into a Detection. Records with unusable geometry or
// confidence are rejected with a *ParseError so the caller can drop them one by
// one without losing the rest of the model's output.
//
// # Confidence Scores
//
// Confidence is a float in [0.0, 1.0]:
//   - 1.0 = certain
//   - 0.5 = moderate confidence
//   - Lower values indicate uncertain detections
package detection

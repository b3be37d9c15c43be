// Package omr implements the answer-sheet scanning pipeline.
//
// The pipeline converts a photograph of a filled multiple-choice answer
// sheet into a structured set of detected answers plus diagnostic
// metadata. It is designed for uncontrolled mobile-camera input:
// arbitrary rotation (via EXIF orientation), perspective skew, uneven
// lighting, and partial occlusion.
//
// Six stages run in strict order, each consuming the previous stage's
// output:
//
//  1. Orientation normalization: decode the image bytes and apply the
//     EXIF orientation so pixel data is right-side-up (orient.go).
//  2. Document localization: find the sheet's four corners via a
//     strategy cascade and rectify the perspective (locate.go,
//     geometry.go).
//  3. Grid resolution: determine every bubble position, either from
//     the calibrated form layout or dynamically from detected circles
//     (layout.go).
//  4. Ink scoring: compute a normalized fill score per bubble
//     (score.go).
//  5. Decision: convert per-row scores into selected options with
//     confidence and ambiguity metrics (decide.go).
//  6. Aggregation: combine decisions into the final result, warnings,
//     and an optional annotated debug image (omr.go, debug.go).
//
// A Scan invocation is a pure function of its inputs: it holds no state
// across calls and shares no mutable data, so any number of scans may
// run concurrently.
package omr

// SPDX-License-Identifier: MPL-2.0

// Package image renders, verifies and builds the service container image.
//
// Render produces a Dockerfile whose prefix, up to and including the
// dependency install layer, depends only on the base image, the system
// packages and the dependency manifest. The sha256 over those inputs is the
// dependency-layer key; it is stamped as a LABEL right after the install
// layer so it can be inspected on a built image.
//
// Verify checks any Dockerfile, rendered or hand-written, against the
// required image properties. Builder ties both together with a prepared
// build context and the container engine:
//
//	b := image.NewBuilder(engine)
//	artifact, err := b.Build(ctx, image.BuildRequest{ProjectDir: dir, Params: params, Tag: "inkboard:latest"})
package image

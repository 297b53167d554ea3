// Package sdruntime orchestrates Stable Diffusion style pipelines: it picks
// the compute device, lazily builds one pipeline per operation family and
// dispatches validated generation requests to them.
//
// The pixel work itself is delegated to a Provider. Two are included: a
// deterministic synthetic provider for tests and CPU-only deployments, and
// an OpenAI images provider for remote generation.
//
// # Quick Start
//
//	device := sdruntime.NewDeviceSelector(logger).Select(ctx, cfg.DeviceOverride)
//
//	registry := sdruntime.NewRegistry(sdruntime.PipelineConfig{
//	    BaseModel:    "runwayml/stable-diffusion-v1-5",
//	    Img2ImgModel: "runwayml/stable-diffusion-v1-5",
//	    InpaintModel: "runwayml/stable-diffusion-inpainting",
//	}, device, sdruntime.NewSyntheticProvider(512), logger)
//
//	dispatcher := sdruntime.NewDispatcher(registry, logger)
//	out, err := dispatcher.Generate(ctx, sdruntime.GenerationRequest{
//	    Operation:     sdruntime.FamilyText2Img,
//	    Prompt:        "a red cube",
//	    GuidanceScale: 7.5,
//	    Steps:         30,
//	    Seed:          sdruntime.SeedPtr(42),
//	})
//
// # Laziness
//
// A Registry never builds a pipeline until Ensure is called for that family.
// Each family has its own lock, so building the inpaint pipeline never waits
// on text-to-image. A failed build leaves the family empty; the next Ensure
// retries from scratch.
//
// # Errors
//
// Every failure returned by Ensure and Generate is an *Error whose Kind is
// KindValidation, KindConstruction or KindInference. The sentinels below
// are matched with errors.Is:
//
//   - ErrInvalidRequest: missing image or mask, bad parameters
//   - ErrUnknownOperation: operation name not recognised
//   - ErrModelNotFound: local model file missing
//   - ErrModelCorrupted: local model file failed checksum
//   - ErrUnsupportedDevice: provider cannot run on the device
//   - ErrGenerationFailed: provider failed during invocation
package sdruntime

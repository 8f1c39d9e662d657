package plugin

import (
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/variant"
)

// PropertyReader is implemented by instances whose property values are not
// simply their descriptor's Default (the common case for anything
// stateful).
type PropertyReader interface {
	GetProperty(id int) (variant.Value, error)
}

// PropertyWriter is implemented by instances that accept configuration.
type PropertyWriter interface {
	SetProperty(id int, value variant.Value) error
}

// IndexedPropertyAccessor serves array-typed properties without
// materializing the whole array.
type IndexedPropertyAccessor interface {
	GetIndexedProperty(id, index int) (variant.Value, error)
	SetIndexedProperty(id, index int, value variant.Value) error
}

// SecondImageSize constrains an ImageProcessingFilter2's secondary input
// relative to the primary.
type SecondImageSize uint8

// Secondary-image size constraints.
const (
	SecondImageAny SecondImageSize = iota
	SecondImageEqual
	SecondImageEqualOrBigger
	SecondImageEqualOrSmaller
)

// ImageProcessingFilter transforms one image into another (§4.3).
type ImageProcessingFilter interface {
	SupportedPixelFormats() []pixel.Format
	CanProcessInPlace() bool
	GetOutputPixelFormat(in pixel.Format) (pixel.Format, error)
	// Process always produces a non-destructive result.
	Process(src *pixel.Buffer) (*pixel.Buffer, error)
	// ProcessInPlace is only called when CanProcessInPlace reports true.
	ProcessInPlace(inout *pixel.Buffer) error
}

// ImageProcessingFilter2 is an ImageProcessingFilter that also takes a
// secondary input image.
type ImageProcessingFilter2 interface {
	ImageProcessingFilter
	SecondImageSupportedSize() SecondImageSize
	SecondImageSupportedFormat(primary pixel.Format) []pixel.Format
	Process2(primary, secondary *pixel.Buffer) (*pixel.Buffer, error)
}

// ImageProcessing is a read-only analyzer; its findings surface through
// the plug-in's own properties (histogram buckets, mean, std-dev, ...).
type ImageProcessing interface {
	SupportedPixelFormats() []pixel.Format
	Process(src *pixel.Buffer) error
}

// VideoProcessing may mutate a buffer in place but, per Design Notes §9's
// conservative reading of an open question, may never change its pixel
// format — format changes must go through an ImageProcessingFilter.
type VideoProcessing interface {
	SupportedPixelFormats() []pixel.Format
	IsReadOnlyMode() bool
	Process(inout *pixel.Buffer) error
	Reset()
}

// ScriptingCallbacks is the host callback table handed to a ScriptingEngine
// via SetCallbacks (spec §4.6, §9).
type ScriptingCallbacks interface {
	HostName() string
	HostVersion() Version
	Print(s string)
	CreatePluginInstance(name string) (*Descriptor, Instance, error)
	GetVariable(name string) (variant.Value, error)
	SetVariable(name string, value variant.Value) error
	GetImageVariable(name string) (*pixel.Buffer, error)
	SetImageVariable(name string, buf *pixel.Buffer) error
	// GetImage/SetImage pull/replace the frame flowing through a pipeline
	// step. Thread-runtime callback tables return NotImplemented for
	// these three (spec §4.6, preserved per the open question in §9).
	GetImage() (*pixel.Buffer, error)
	SetImage(buf *pixel.Buffer) error
	GetVideoSource() (*Descriptor, Instance, error)
}

// ScriptingEngine runs embedded scripts (§4.3).
type ScriptingEngine interface {
	DefaultExtension() string
	Init() error
	SetScriptFile(path string) error
	LoadScript() error
	InitScript() error
	RunScript() error
	GetLastErrorMessage() string
	SetCallbacks(cb ScriptingCallbacks)
}

// VideoSourceCallbacks is the callback table a VideoSource plug-in invokes
// from its own internal producer thread.
type VideoSourceCallbacks interface {
	OnNewImage(buf *pixel.Buffer)
	OnError(message string)
}

// VideoSource acquires frames on its own internal thread (§4.3, §4.5).
type VideoSource interface {
	Start() error
	SignalToStop()
	WaitForStop()
	IsRunning() bool
	Terminate()
	FramesReceived() uint64
	SetCallbacks(cb VideoSourceCallbacks)
	// FrameFormat reports the pixel format frames are delivered in; if it
	// is pixel.JPEG the source runtime decodes via the JPEG importer
	// collaborator before handing frames to the reuse ring (§4.5).
	FrameFormat() pixel.Format
}

// ImageImporter decodes bytes into a pixel buffer (a codec collaborator as
// seen from the core, §1/§4.3).
type ImageImporter interface {
	SupportedExtensions() []string
	Import(path string) (*pixel.Buffer, error)
}

// ImageExporter encodes a pixel buffer to bytes.
type ImageExporter interface {
	SupportedExtensions() []string
	SupportedPixelFormats() []pixel.Format
	Export(path string, buf *pixel.Buffer) error
}

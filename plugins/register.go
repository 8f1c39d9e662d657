// Package plugins wires every in-process collaborator module into a
// plugin.Registry, standing in for the directory scan a dlopen-based
// registry would otherwise perform (spec §4.3, "Plug-in Registry").
package plugins

import (
	"cvautomation/pkg/plugin"
	"cvautomation/plugins/grayscale"
	"cvautomation/plugins/histogram"
	"cvautomation/plugins/httpimage"
	"cvautomation/plugins/httpmjpeg"
	"cvautomation/plugins/jpegcodec"
	"cvautomation/plugins/luascript"
	"cvautomation/plugins/pngcodec"
	"cvautomation/plugins/swaprgb"
	"cvautomation/plugins/threshold"
)

// RegisterAll registers every builtin module's descriptors in r. It is the
// in-process stand-in for Registry.CollectModules scanning a plug-ins
// directory of shared libraries.
func RegisterAll(r *plugin.Registry) error {
	modules := []struct {
		module      plugin.Module
		descriptors []*plugin.Descriptor
	}{
		{
			module:      plugin.Module{GUID: grayscale.ModuleGUID, Name: "grayscale", Version: "1.0"},
			descriptors: []*plugin.Descriptor{grayscale.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: swaprgb.ModuleGUID, Name: "swaprgb", Version: "1.0"},
			descriptors: []*plugin.Descriptor{swaprgb.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: threshold.ModuleGUID, Name: "threshold", Version: "1.0"},
			descriptors: []*plugin.Descriptor{threshold.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: histogram.ModuleGUID, Name: "histogram", Version: "1.0"},
			descriptors: []*plugin.Descriptor{histogram.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: httpmjpeg.ModuleGUID, Name: "httpmjpeg", Version: "1.0"},
			descriptors: []*plugin.Descriptor{httpmjpeg.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: httpimage.ModuleGUID, Name: "httpimage", Version: "1.0"},
			descriptors: []*plugin.Descriptor{httpimage.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: luascript.ModuleGUID, Name: "luascript", Version: "1.0"},
			descriptors: []*plugin.Descriptor{luascript.Descriptor()},
		},
		{
			module:      plugin.Module{GUID: jpegcodec.ModuleGUID, Name: "jpegcodec", Version: "1.0"},
			descriptors: []*plugin.Descriptor{jpegcodec.ImporterDescriptor(), jpegcodec.ExporterDescriptor()},
		},
		{
			module:      plugin.Module{GUID: pngcodec.ModuleGUID, Name: "pngcodec", Version: "1.0"},
			descriptors: []*plugin.Descriptor{pngcodec.ImporterDescriptor(), pngcodec.ExporterDescriptor()},
		},
	}

	for _, m := range modules {
		for _, d := range m.descriptors {
			if err := r.RegisterBuiltin(m.module, d); err != nil {
				return err
			}
		}
	}
	return nil
}

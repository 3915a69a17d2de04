package sdrxml

import "encoding/xml"

// SDRContext represents the IIOD XML context description, as returned by the
// PRINT command or synthesized from sysfs by the local backend.
type SDRContext struct {
	XMLName          xml.Name           `xml:"context" json:"context"`
	Name             string             `xml:"name,attr" json:"name"`
	VersionMajor     string             `xml:"version-major,attr" json:"version-major"`
	VersionMinor     string             `xml:"version-minor,attr" json:"version-minor"`
	VersionGit       string             `xml:"version-git,attr" json:"version-git"`
	Description      string             `xml:"description,attr" json:"description"`
	ContextAttribute []ContextAttribute `xml:"context-attribute" json:"context-attribute"`
	Device           []DeviceEntry      `xml:"device" json:"device"`
	Index            *IIODIndex         `xml:"-" json:"-"`
}

// -----------------------------------------------------------------------------
// CONTEXT-LEVEL ATTRIBUTES
// -----------------------------------------------------------------------------

type ContextAttribute struct {
	Name  string `xml:"name,attr" json:"name"`
	Value string `xml:"value,attr" json:"value"`
}

// -----------------------------------------------------------------------------
// DEVICE
// -----------------------------------------------------------------------------

type DeviceEntry struct {
	ID    string `xml:"id,attr" json:"id"`
	Name  string `xml:"name,attr" json:"name"`
	Label string `xml:"label,attr" json:"label,omitempty"`

	Channel         []ChannelEntry `xml:"channel" json:"channel"`
	Attribute       []DevAttribute `xml:"attribute" json:"attribute"`
	DebugAttribute  []DevAttribute `xml:"debug-attribute" json:"debug-attribute"`
	BufferAttribute []DevAttribute `xml:"buffer-attribute" json:"buffer-attribute"`
}

// -----------------------------------------------------------------------------
// CHANNEL
// -----------------------------------------------------------------------------

type ChannelEntry struct {
	ID   string `xml:"id,attr" json:"id"`
	Name string `xml:"name,attr" json:"name,omitempty"`
	Type string `xml:"type,attr" json:"type"` // input | output

	Attribute      []ChannelAttr `xml:"attribute" json:"attribute"`
	ScanElementRaw *ScanElement  `xml:"scan-element" json:"scan-element,omitempty"`
	ParsedFormat   *ScanFormat   `xml:"-" json:"parsed-format,omitempty"`
}

// IsOutput reports whether the channel is an output (TX) channel.
func (ch *ChannelEntry) IsOutput() bool { return ch.Type == "output" }

// IsScanElement reports whether the channel can take part in a buffer.
func (ch *ChannelEntry) IsScanElement() bool { return ch.ParsedFormat != nil }

// SampleSize returns the number of bytes the channel occupies in one sample.
func (ch *ChannelEntry) SampleSize() int {
	if ch.ParsedFormat == nil {
		return 0
	}
	return ch.ParsedFormat.StorageBytes()
}

// HasAttr reports whether the channel exposes the named attribute.
func (ch *ChannelEntry) HasAttr(name string) bool {
	for _, a := range ch.Attribute {
		if a.Name == name {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// ATTRIBUTE TYPES
// -----------------------------------------------------------------------------

// DevAttribute is a device, debug, or buffer attribute.
type DevAttribute struct {
	Name string `xml:"name,attr" json:"name"`
}

// ChannelAttr is a channel attribute. Filename is the sysfs file backing it.
type ChannelAttr struct {
	Name     string `xml:"name,attr" json:"name"`
	Filename string `xml:"filename,attr" json:"filename,omitempty"`
}

// -----------------------------------------------------------------------------
// SCAN ELEMENT
// -----------------------------------------------------------------------------

type ScanElement struct {
	Index  string `xml:"index,attr" json:"index"`
	Format string `xml:"format,attr" json:"format"`
	Scale  string `xml:"scale,attr" json:"scale,omitempty"`
}

package models

// Descriptor is the logical schema of the JSON metadata entry shipped inside
// each archive.
type Descriptor struct {
	Country  string    `json:"country"`
	AppName  string    `json:"appname"`
	DocTypes []DocType `json:"doctypes"`
}

// DocType groups documents of one declared type.
type DocType struct {
	DocType   string               `json:"doctype"`
	Documents []DescriptorDocument `json:"documents"`
}

// DescriptorDocument declares one document inside the archive.
type DescriptorDocument struct {
	Filepath  string              `json:"filepath"`
	FileGUID  string              `json:"fileguid"`
	Extension string              `json:"extension"`
	Tags      []map[string]string `json:"tags,omitempty"`
}

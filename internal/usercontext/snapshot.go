// Package usercontext captures a point-in-time copy of the acting
// user's organizational display fields. The snapshot is stored on every
// interaction at write time and never re-derived, so later profile
// edits do not rewrite historical displays.
package usercontext

// Snapshot is the immutable write-time context embedded in each
// interaction. All fields are concrete values; missing profile data
// becomes an empty string or zero, never null.
type Snapshot struct {
	FullName       string `json:"fullName"`
	Department     string `json:"department"`
	Role           string `json:"role"`
	CompanyName    string `json:"companyName"`
	YearsAtCompany int    `json:"yearsAtCompany"`
	YearsInRole    int    `json:"yearsInRole"`
	YearsInDept    int    `json:"yearsInDept"`
}

// Profile carries the organizational fields a user maintains on their
// profile. It is the input side of Build; Snapshot is the output.
type Profile struct {
	Department     string
	CompanyRole    string
	CompanyName    string
	YearsAtCompany int
	YearsInRole    int
	YearsInDept    int
}

// Build derives a snapshot from the actor's display name and current
// profile. Pure; runs once per write.
func Build(fullName string, profile Profile) Snapshot {
	return Snapshot{
		FullName:       fullName,
		Department:     profile.Department,
		Role:           profile.CompanyRole,
		CompanyName:    profile.CompanyName,
		YearsAtCompany: profile.YearsAtCompany,
		YearsInRole:    profile.YearsInRole,
		YearsInDept:    profile.YearsInDept,
	}
}

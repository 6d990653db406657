package tempaccess

// roleCatalog is the fixed role -> capability table. It is the single
// source of truth for what a freshly created grant may do; grants copy the
// row at creation time and keep that snapshot for their whole life.
var roleCatalog = map[Role]PermissionSet{
	RoleViewer: {
		ViewDashboard: true,
	},
	RoleAnalyst: {
		ViewDashboard:   true,
		ViewCompanies:   true,
		ViewAgents:      true,
		ViewAnalytics:   true,
		DownloadReports: true,
	},
	RoleAdmin: {
		ViewDashboard:   true,
		ViewCompanies:   true,
		ViewAgents:      true,
		ManageJobs:      true,
		ViewAnalytics:   true,
		UseVoiceAI:      true,
		DownloadReports: true,
	},
	RoleExecutive: {
		ViewDashboard:   true,
		ViewCompanies:   true,
		ViewAgents:      true,
		ManageJobs:      true,
		ViewAnalytics:   true,
		AccessVault:     true,
		UseVoiceAI:      true,
		DownloadReports: true,
	},
}

// DerivePermissions returns the capability set for a role. It is pure and
// total over the Role enum; unknown roles get an empty set.
func DerivePermissions(role Role) PermissionSet {
	return roleCatalog[role]
}

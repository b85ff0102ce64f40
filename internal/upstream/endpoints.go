// Package upstream centralizes the fixed URLs this gateway talks to: the
// streaming service's account/API surface and the FCC broadcast-facilities
// dataset used to resolve channel numbers.
package upstream

const (
	// LoginURL authenticates username/password and returns a bearer token.
	LoginURL = "https://api.upstreamtv.example/api/user/login"

	// UserInfoURL returns account entitlement details (donation/subscription
	// status) for the bearer token presented.
	UserInfoURL = "https://api.upstreamtv.example/api/user/me"

	// DMAURL lists the service's markets (DMA id, name, active flag).
	DMAURL = "https://api.upstreamtv.example/api/dma"

	// StationsURLFormat is filled with the market DMA id, a Unix start
	// time, and the number of hours of EPG data to request.
	StationsURLFormat = "https://api.upstreamtv.example/api/watch/epg/%s?startTime=%d&hours=%d"

	// WatchURLFormat is filled with the station id and the caller's
	// market-registered latitude/longitude.
	WatchURLFormat = "https://api.upstreamtv.example/api/watch/station/%s/%s/%s"

	// IPGeoURL resolves the caller's public IP to a DMA when no zipcode is
	// configured or active.
	IPGeoURL = "https://api.upstreamtv.example/api/dma/ip"

	// ZipGeoURLFormat is filled with a 5-digit zipcode.
	ZipGeoURLFormat = "https://api.upstreamtv.example/api/dma/zip/%s"

	// FacilitiesZipURL is the FCC broadcast-station licensing dataset,
	// a ZIP archive containing facility.dat.
	FacilitiesZipURL = "https://transition.fcc.gov/ftp/Bureaus/MB/Databases/cdbs/facility.zip"

	// FacilityDatFile is the name of the pipe-delimited file inside
	// FacilitiesZipURL's archive.
	FacilityDatFile = "facility.dat"

	// HLSIndirectHost is the proxy host a watch response's streamUrl points
	// at before rewrite_endpoint resolves it straight to the originating
	// CDN location.
	HLSIndirectHost = "hls.upstreamtv.example"

	// DirectHostFormat is filled with the location segment extracted from a
	// proxied stream URL's /proxy/<location>/... path.
	DirectHostFormat = "https://%s.upstreamtv.example"
)

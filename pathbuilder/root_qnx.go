//go:build qnx

package pathbuilder

const discoveryRoot = "/tmp_discovery/mw_com_lola/service_discovery"

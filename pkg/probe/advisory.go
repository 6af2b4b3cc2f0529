package probe

// advisories maps kernel drivers to field notes about concurrent mode.
var advisories = map[string]string{
	"iwlwifi":    "Intel: concurrent managed+AP is supported on most chips; 5GHz AP is often blocked by the regulatory no-IR flag",
	"ath9k":      "Atheros ath9k: reliable concurrent mode; the AP shares the client channel",
	"ath10k_pci": "Atheros ath10k: concurrent mode depends on firmware; older firmware lacks AP+managed",
	"ath11k_pci": "Atheros ath11k: AP mode support is limited on laptop chips",
	"brcmfmac":   "Broadcom FullMAC: works on Raspberry Pi firmware on a single channel; other firmware may refuse AP",
	"rtl8xxxu":   "Realtek USB (rtl8xxxu): AP mode is experimental and frequently unstable",
	"rtw88_pci":  "Realtek rtw88: concurrent mode is unsupported on most chips",
	"rtw89_pci":  "Realtek rtw89: AP mode is incomplete in current kernels",
	"mt7601u":    "MediaTek mt7601u: no AP support",
	"mt76x2u":    "MediaTek mt76x2u: good concurrent mode support",
	"mt7921e":    "MediaTek mt7921: concurrent mode works; 5GHz AP requires a country code",
	"mt7921u":    "MediaTek mt7921 USB: concurrent mode works; 5GHz AP requires a country code",
}

// Advisory returns known notes about a driver, or "" when there are none.
func Advisory(driver string) string {
	return advisories[driver]
}

// Package barcode provides the symbology table shared by every scan adapter and a
// pluggable decoder interface over third-party ZXing ports.
//
// Two backends are linked in: "gozxing" (default, all supported symbologies) and
// "goqr" (QR only, pure recognizer without hints).
//
// Example:
//
//	be, _ := barcode.NewBackend("gozxing")
//	results, err := be.Decode(ctx, img, barcode.Options{TryHarder: true})
package barcode

package nn

// COCO class indices that matter to us. Detectors trained on COCO emit
// these; anything not in the vehicle set is ignored by the pipeline.
const (
	COCOPerson     = 0
	COCOBicycle    = 1
	COCOCar        = 2
	COCOMotorcycle = 3
	COCOBus        = 5
	COCOTruck      = 7
)

// Vehicle classes that we track
var vehicleClassNames = map[int]string{
	COCOCar:        "car",
	COCOMotorcycle: "motorcycle",
	COCOBus:        "bus",
	COCOTruck:      "truck",
}

func IsVehicle(class int) bool {
	_, ok := vehicleClassNames[class]
	return ok
}

// ClassName returns the human readable name of a vehicle class, or
// "unknown" for anything outside the vehicle set.
func ClassName(class int) string {
	if name, ok := vehicleClassNames[class]; ok {
		return name
	}
	return "unknown"
}

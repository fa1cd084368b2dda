package obs

// Request types the bridge issues to the remote mixing application.
const (
	RequestGetInputList           = "GetInputList"
	RequestGetInputVolume         = "GetInputVolume"
	RequestSetInputVolume         = "SetInputVolume"
	RequestGetInputMute           = "GetInputMute"
	RequestSetInputMute           = "SetInputMute"
	RequestToggleInputMute        = "ToggleInputMute"
	RequestGetSceneList           = "GetSceneList"
	RequestSetCurrentProgramScene = "SetCurrentProgramScene"
)

// Input is one entry of a GetInputList response.
type Input struct {
	InputName string `json:"inputName"`
	InputKind string `json:"inputKind"`
}

// InputListResponse is the GetInputList response payload.
type InputListResponse struct {
	Inputs []Input `json:"inputs"`
}

// InputVolumeResponse is the GetInputVolume response payload.
type InputVolumeResponse struct {
	InputVolumeMul float64 `json:"inputVolumeMul"`
}

// InputMuteResponse is the payload of GetInputMute and ToggleInputMute
// responses.
type InputMuteResponse struct {
	InputMuted bool `json:"inputMuted"`
}

// SceneListItem is one entry of a GetSceneList response.
type SceneListItem struct {
	SceneName  string `json:"sceneName"`
	SceneIndex int    `json:"sceneIndex"`
}

// SceneListResponse is the GetSceneList response payload.
type SceneListResponse struct {
	Scenes []SceneListItem `json:"scenes"`
}

// Incoming event payloads.

type volumeMetersEvent struct {
	Inputs []meterInput `json:"inputs"`
}

type meterInput struct {
	InputName      string      `json:"inputName"`
	InputLevelsMul [][]float64 `json:"inputLevelsMul"`
	InputLevelsDb  [][]float64 `json:"inputLevelsDb"`
}

type inputVolumeChangedEvent struct {
	InputName      string  `json:"inputName"`
	InputVolumeMul float64 `json:"inputVolumeMul"`
}

type inputMuteChangedEvent struct {
	InputName  string `json:"inputName"`
	InputMuted bool   `json:"inputMuted"`
}

type inputCreatedEvent struct {
	InputName string `json:"inputName"`
	InputKind string `json:"inputKind"`
}

type inputRemovedEvent struct {
	InputName string `json:"inputName"`
}

type sceneNameEvent struct {
	SceneName string `json:"sceneName"`
}

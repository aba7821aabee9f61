package graphql

// Operation names, used for logging and metrics labels.
const (
	OpLogin                = "mkLoginToken"
	OpValidateDevice       = "mkValidateDevice"
	OpSendOTP              = "mkSendOTP"
	OpInstallationList     = "mkInstallationList"
	OpInstallationServices = "Srv"
	OpCheckAlarm           = "CheckAlarm"
	OpCheckAlarmStatus     = "xSCheckAlarmStatus"
	OpArmPanel             = "xSArmPanel"
	OpArmStatus            = "xSArmStatus"
	OpDisarmPanel          = "xSDisarmPanel"
	OpDisarmStatus         = "xSDisarmStatus"
)

// Response result values shared by every panel operation.
const (
	ResOK   = "OK"
	ResKO   = "KO"
	ResWait = "WAIT"
)

// Vendor error codes carried inside GraphQL error payloads.
const (
	CodeInvalidCredentials = "60091"
	CodeOTPRequired        = "10001"
	CodeDeviceUnauthorized = "10010"

	AuthTypeOTP = "OTP"
)

// Web client identity sent both in the session header and in login
// variables. The id is a fixed-width slot the web app pads with
// underscores.
const (
	SessionID = "OWI______________________"
	Callby    = "OWI_10"
)

// The documents below mirror the vendor's native app requests. Field sets
// matter: the backend rejects unknown selections on some resolvers, so keep
// them in sync with what the app actually sends.

const LoginMutation = `
    mutation mkLoginToken($user: String!, $password: String!, $id: String!, $country: String!, $idDevice: String, $idDeviceIndigitall: String, $deviceType: String, $deviceVersion: String, $deviceResolution: String, $lang: String!, $callby: String!, $uuid: String, $deviceName: String, $deviceBrand: String, $deviceOsVersion: String) {
        xSLoginToken(
            user: $user
            password: $password
            id: $id
            country: $country
            idDevice: $idDevice
            idDeviceIndigitall: $idDeviceIndigitall
            deviceType: $deviceType
            deviceVersion: $deviceVersion
            deviceResolution: $deviceResolution
            lang: $lang
            callby: $callby
            uuid: $uuid
            deviceName: $deviceName
            deviceBrand: $deviceBrand
            deviceOsVersion: $deviceOsVersion
        ) {
            res
            msg
            hash
            lang
            legals
            changePassword
            needDeviceAuthorization
            refreshToken
        }
    }
`

const ValidateDeviceMutation = `
    mutation mkValidateDevice($idDevice: String, $idDeviceIndigitall: String, $uuid: String, $deviceName: String, $deviceBrand: String, $deviceOsVersion: String, $deviceVersion: String) {
        xSValidateDevice(
            idDevice: $idDevice
            idDeviceIndigitall: $idDeviceIndigitall
            uuid: $uuid
            deviceName: $deviceName
            deviceBrand: $deviceBrand
            deviceOsVersion: $deviceOsVersion
            deviceVersion: $deviceVersion
        ) {
            res
            msg
            hash
            refreshToken
            legals
        }
    }
`

const SendOTPMutation = `
    mutation mkSendOTP($recordId: Int!, $otpHash: String!) {
        xSSendOtp(recordId: $recordId, otpHash: $otpHash) {
            res
            msg
        }
    }
`

const InstallationsQuery = `
query mkInstallationList {
  xSInstallations {
    installations {
      numinst
      alias
      panel
      type
      name
      surname
      address
      city
      postcode
      province
      email
      phone
      due
      role
    }
  }
}
`

const InstallationServicesQuery = `
query Srv($numinst: String!, $uuid: String) {
  xSSrv(numinst: $numinst, uuid: $uuid) {
    res
    msg
    language
    installation {
      numinst
      role
      alias
      status
      panel
      sim
      instIbs
      services {
        idService
        active
        visible
        bde
        isPremium
        codOper
        request
        minWrapperVersion
        unprotectActive
        unprotectDeviceStatus
        instDate
        genericConfig {
          total
          attributes {
            key
            value
          }
        }
        attributes {
          attributes {
            name
            value
            active
          }
        }
      }
      configRepoUser {
        alarmPartitions {
          id
          enterStates
          leaveStates
        }
      }
      capabilities
    }
  }
}
`

const CheckAlarmQuery = `
    query CheckAlarm($numinst: String!, $panel: String!) {
        xSCheckAlarm(numinst: $numinst, panel: $panel) {
            res
            msg
            referenceId
        }
    }
`

const ArmPanelMutation = `
    mutation xSArmPanel(
        $numinst: String!,
        $request: ArmCodeRequest!,
        $panel: String!,
        $currentStatus: String,
        $forceArmingRemoteId: String,
        $armAndLock: Boolean
    ) {
        xSArmPanel(
            numinst: $numinst
            request: $request
            panel: $panel
            currentStatus: $currentStatus
            forceArmingRemoteId: $forceArmingRemoteId
            armAndLock: $armAndLock
        ) {
            res
            msg
            referenceId
        }
    }
`

const ArmStatusQuery = `
    query ArmStatus(
        $numinst: String!,
        $request: ArmCodeRequest,
        $panel: String!,
        $referenceId: String!,
        $counter: Int!,
        $forceArmingRemoteId: String,
        $armAndLock: Boolean
    ) {
        xSArmStatus(
            numinst: $numinst
            panel: $panel
            referenceId: $referenceId
            counter: $counter
            request: $request
            forceArmingRemoteId: $forceArmingRemoteId
            armAndLock: $armAndLock
        ) {
            res
            msg
            status
            protomResponse
            protomResponseDate
            numinst
            requestId
            error {
                code
                type
                allowForcing
                exceptionsNumber
                referenceId
                suid
            }
            smartlockStatus {
                state
                deviceId
                updatedOnArm
            }
        }
    }
`

const DisarmPanelMutation = `
    mutation xSDisarmPanel(
        $numinst: String!,
        $request: DisarmCodeRequest!,
        $panel: String!
    ) {
        xSDisarmPanel(numinst: $numinst, request: $request, panel: $panel) {
            res
            msg
            referenceId
        }
    }
`

const DisarmStatusQuery = `
    query DisarmStatus(
        $numinst: String!,
        $panel: String!,
        $referenceId: String!,
        $counter: Int!,
        $request: DisarmCodeRequest
    ) {
        xSDisarmStatus(
            numinst: $numinst
            panel: $panel
            referenceId: $referenceId
            counter: $counter
            request: $request
        ) {
            res
            msg
            status
            protomResponse
            protomResponseDate
            numinst
            requestId
            error {
                code
                type
                allowForcing
                exceptionsNumber
                referenceId
                suid
            }
        }
    }
`

const CheckAlarmStatusQuery = `
    query CheckAlarmStatus(
        $numinst: String!,
        $idService: String!,
        $panel: String!,
        $referenceId: String!
    ) {
        xSCheckAlarmStatus(
            numinst: $numinst
            idService: $idService
            panel: $panel
            referenceId: $referenceId
        ) {
            res
            msg
            status
            numinst
            protomResponse
            protomResponseDate
            forcedArmed
        }
    }
`

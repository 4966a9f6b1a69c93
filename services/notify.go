package services

import (
	"context"
	"fmt"

	"personaapi/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"gorm.io/gorm"
)

func stringMapToInterfaceMap(stringMap map[string]string) map[string]interface{} {
	interfaceMap := make(map[string]interface{})
	for key, value := range stringMap {
		interfaceMap[key] = value
	}
	return interfaceMap
}

// SendNotification pushes to every active device token of the user.
// Push failures are logged and dropped, a missed notification never fails a job.
func SendNotification(fbApp *firebase.App, db *gorm.DB, userId uint, title string, message string, customData map[string]string) {
	if fbApp == nil {
		return
	}
	client, err := fbApp.Messaging(context.Background())
	if err != nil {
		fmt.Println("Error initing FB client", err)
		fmt.Println("Abort push: ", title)
		return
	}
	var tokens []models.UserPushToken
	result := db.Model(models.UserPushToken{}).Where(
		"user_account_id = ? and active = true", userId,
	).Find(&tokens)
	if result.Error != nil {
		fmt.Println("Error fetching push tokens", result.Error)
		return
	}

	var iosCustomData map[string]interface{}
	if customData != nil {
		iosCustomData = stringMapToInterfaceMap(customData)
	}
	for _, token := range tokens {
		fmt.Println("Push notification to token: ", token.Token, token.Platform, " ID:", token.ID, "User ID:", token.UserAccountID)
		msg := &messaging.Message{
			Notification: &messaging.Notification{
				Title: title,
				Body:  message,
			},
			APNS: &messaging.APNSConfig{
				FCMOptions: &messaging.APNSFCMOptions{
					AnalyticsLabel: "persona",
				},
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{
						ContentAvailable: true,
						Alert: &messaging.ApsAlert{
							Title: title,
							Body:  message,
						},
						Sound: "default",
					},
					CustomData: iosCustomData,
				},
			},
			Android: &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{
					Priority:  messaging.AndroidNotificationPriority(messaging.PriorityMax),
					ChannelID: "persona-high-priority",
				},
			},
			Data:  customData,
			Token: token.Token,
		}
		if _, err := client.Send(context.Background(), msg); err != nil {
			fmt.Println("Error sending push to token", token.ID, err)
		}
	}
}
